package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	startByte byte = 0x99

	LOGIN           byte = 0x01
	LOCATION_UPDATE byte = 0x02
	ACK             byte = 0x10

	maxPayload = 4096
)

var errBadFrame = errors.New("bad frame")

// Ack codes carried in the single payload byte of an ACK frame.
const (
	AckAccepted byte = iota
	AckDropped
	AckMalformed
	AckOutlier
	AckUnknown
	AckUnavailable
	AckClosed
	AckError
)

type FrameMessage struct {
	Length   int
	Protocol byte
	Payload  []byte
	Buffer   []byte
}

type LoginMessage struct {
	ParticipantID string `json:"participant_id"`
	CourseID      string `json:"course_id"`
}

type LocationMessage struct {
	GpsTime   time.Time `json:"gps_time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
}

func NewFrameMessage() *FrameMessage {
	return &FrameMessage{Buffer: make([]byte, maxPayload+5)}
}

// ReadMessage reads one frame: start byte, protocol, little endian payload
// length, payload, newline.
func ReadMessage(r io.Reader, msg *FrameMessage) error {
	var length int

	if len(msg.Buffer) < 5 {
		return fmt.Errorf("buffer too small")
	}
	_, err := io.ReadFull(r, msg.Buffer[:4])
	if err != nil {
		return err
	}
	if msg.Buffer[0] != startByte {
		return errBadFrame
	}
	length = int(binary.LittleEndian.Uint16(msg.Buffer[2:4]))
	msg.Protocol = msg.Buffer[1]
	msg.Length = length + 5

	if len(msg.Buffer) < msg.Length {
		return fmt.Errorf("%w: payload of %d bytes", errBadFrame, length)
	}
	_, err = io.ReadFull(r, msg.Buffer[4:msg.Length])
	if err != nil {
		return err
	}
	if msg.Buffer[msg.Length-1] != '\n' {
		return errBadFrame
	}
	msg.Payload = msg.Buffer[4 : msg.Length-1]
	return nil
}

func AppendFrame(buf []byte, protocol byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return buf, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	var hdr [4]byte
	hdr[0] = startByte
	hdr[1] = protocol
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(payload)))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	return append(buf, '\n'), nil
}

func WriteMessage(w io.Writer, protocol byte, payload []byte) error {
	buf, err := AppendFrame(make([]byte, 0, len(payload)+5), protocol, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
