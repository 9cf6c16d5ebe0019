package main

import (
	"encoding/json"
	"flag"
	"math"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/course"
	"nuha.dev/racetracker/internal/ingest"
	"nuha.dev/racetracker/internal/store/impl/filestore"
)

// point returns the position at distance d along the checkpoint polyline.
func point(cps []course.Checkpoint, d float64) (lat, lon, alt float64) {
	for i := 1; i < len(cps); i++ {
		a, b := cps[i-1], cps[i]
		if d > b.DistanceFromStart && i < len(cps)-1 {
			continue
		}
		span := b.DistanceFromStart - a.DistanceFromStart
		t := 0.0
		if span > 0 {
			t = math.Max(0, math.Min(1, (d-a.DistanceFromStart)/span))
		}
		return a.Latitude + t*(b.Latitude-a.Latitude), a.Longitude + t*(b.Longitude-a.Longitude), a.Altitude + t*(b.Altitude-a.Altitude)
	}
	last := cps[len(cps)-1]
	return last.Latitude, last.Longitude, last.Altitude
}

func runner(addr string, f *filestore.CourseFile, pid string, speed float64, interval time.Duration, speedup float64) {
	l := log.DefaultLogger
	l.Context = log.NewContext(nil).Str("module", "racesim").Str("participant_id", pid).Value()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		l.Error().Err(err).Msg("dial failed")
		return
	}
	defer c.Close()
	msg := ingest.NewFrameMessage()
	login, _ := json.Marshal(ingest.LoginMessage{ParticipantID: pid, CourseID: f.ID})
	if err := ingest.WriteMessage(c, ingest.LOGIN, login); err != nil {
		l.Error().Err(err).Msg("login failed")
		return
	}
	if err := ingest.ReadMessage(c, msg); err != nil || len(msg.Payload) != 1 || msg.Payload[0] != ingest.AckAccepted {
		l.Error().Err(err).Msg("login rejected")
		return
	}

	cps := f.Checkpoints
	length := cps[len(cps)-1].DistanceFromStart
	gps := time.Now()
	step := interval.Seconds() * speedup
	for d := 0.0; ; d += speed * step {
		if d > length {
			d = length
		}
		lat, lon, alt := point(cps, d)
		kmh := speed * 3.6
		loc, _ := json.Marshal(ingest.LocationMessage{GpsTime: gps, Latitude: lat, Longitude: lon, Altitude: alt, Speed: &kmh})
		if err := ingest.WriteMessage(c, ingest.LOCATION_UPDATE, loc); err != nil {
			l.Error().Err(err).Msg("write failed")
			return
		}
		if err := ingest.ReadMessage(c, msg); err != nil {
			l.Error().Err(err).Msg("read ack failed")
			return
		}
		l.Debug().Float64("distance", d).Int("ack", int(msg.Payload[0])).Msg("ping")
		if d >= length {
			l.Info().Msg("finished")
			return
		}
		gps = gps.Add(time.Duration(step * float64(time.Second)))
		time.Sleep(interval)
	}
}

func main() {
	addr := flag.String("addr", "localhost:6000", "ingest server address")
	file := flag.String("course", "", "course file with roster")
	speed := flag.Float64("speed", 3.5, "base speed in m/s")
	interval := flag.Duration("interval", time.Second, "wall time between pings")
	speedup := flag.Float64("speedup", 10, "simulated seconds per wall second")
	flag.Parse()

	f, err := filestore.ReadCourseFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid course file")
	}
	wg := sync.WaitGroup{}
	for i, p := range f.Participants {
		// spread runners so the standings have something to sort
		v := *speed * (1 + 0.05*float64(i%5))
		wg.Add(1)
		go func(pid string, v float64) {
			defer wg.Done()
			runner(*addr, f, pid, v, *interval, *speedup)
		}(p.ID, v)
	}
	wg.Wait()
}
