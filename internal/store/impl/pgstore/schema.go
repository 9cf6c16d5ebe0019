package pgstore

// Schema creates the tables used by Store and ProgressWriter.
const Schema = `
CREATE TABLE IF NOT EXISTS course (
	id         text PRIMARY KEY,
	name       text NOT NULL DEFAULT '',
	discipline text NOT NULL DEFAULT 'other',
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoint (
	course_id           text NOT NULL REFERENCES course(id) ON DELETE CASCADE,
	idx                 integer NOT NULL,
	id                  text NOT NULL,
	type                text NOT NULL,
	latitude            double precision NOT NULL,
	longitude           double precision NOT NULL,
	altitude            double precision NOT NULL DEFAULT 0,
	distance_from_start double precision NOT NULL,
	PRIMARY KEY (course_id, idx),
	UNIQUE (course_id, id)
);

CREATE TABLE IF NOT EXISTS participant (
	course_id  text NOT NULL REFERENCES course(id) ON DELETE CASCADE,
	id         text NOT NULL,
	nickname   text NOT NULL DEFAULT '',
	bib_number integer NOT NULL DEFAULT 0,
	start_time timestamptz,
	PRIMARY KEY (course_id, id)
);

CREATE TABLE IF NOT EXISTS ping_history (
	course_id      text NOT NULL,
	participant_id text NOT NULL,
	latitude       double precision NOT NULL,
	longitude      double precision NOT NULL,
	altitude       double precision NOT NULL,
	distance       double precision NOT NULL,
	course_offset  double precision NOT NULL,
	gps_time       timestamptz NOT NULL,
	server_time    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS ping_history_participant ON ping_history (course_id, participant_id, gps_time);

CREATE TABLE IF NOT EXISTS participant_progress (
	course_id      text NOT NULL,
	participant_id text NOT NULL,
	status         text NOT NULL,
	progress       jsonb NOT NULL,
	updated_at     timestamptz NOT NULL,
	PRIMARY KEY (course_id, participant_id)
);
`
