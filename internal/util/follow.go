package util

import (
	"errors"
	"fmt"

	hashids "github.com/speps/go-hashids/v2"
)

var ErrBadFollowCode = errors.New("invalid follow code")

// FollowCodec turns bib numbers into short spectator codes. Codes are salted
// per course so the same bib gives different codes on different courses.
type FollowCodec struct {
	salt      string
	minLength int
}

func NewFollowCodec(salt string, minLength int) *FollowCodec {
	return &FollowCodec{salt: salt, minLength: minLength}
}

func (f *FollowCodec) hasher(courseID string) (*hashids.HashID, error) {
	hd := hashids.NewData()
	hd.Salt = f.salt + ":" + courseID
	hd.MinLength = f.minLength
	return hashids.NewWithData(hd)
}

func (f *FollowCodec) Encode(courseID string, bib int) (string, error) {
	if bib < 0 {
		return "", fmt.Errorf("negative bib number %d", bib)
	}
	h, err := f.hasher(courseID)
	if err != nil {
		return "", err
	}
	return h.EncodeInt64([]int64{int64(bib)})
}

func (f *FollowCodec) Decode(courseID, code string) (int, error) {
	h, err := f.hasher(courseID)
	if err != nil {
		return 0, err
	}
	ns, err := h.DecodeInt64WithError(code)
	if err != nil || len(ns) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrBadFollowCode, code)
	}
	// hashids decodes some foreign strings; reject codes that do not round trip
	if again, err := h.EncodeInt64(ns); err != nil || again != code {
		return 0, fmt.Errorf("%w: %q", ErrBadFollowCode, code)
	}
	return int(ns[0]), nil
}
