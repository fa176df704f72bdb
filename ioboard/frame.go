package ioboard

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/snksoft/crc"
)

var (
	crcTable = crc.NewTable(crc.XMODEM)

	// ErrBadChecksum is generated when a reply's CRC does not match its body
	ErrBadChecksum = errors.New("reply checksum mismatch")

	// ErrMalformed is generated when a reply is not OK or ERR framed
	ErrMalformed = errors.New("malformed reply")
)

// BoardError is an ERR reply from the board
type BoardError struct {
	Cmd string
	Msg string
}

func (e *BoardError) Error() string {
	return fmt.Sprintf("board rejected %s: %s", e.Cmd, e.Msg)
}

func checksum(b []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, b)
	return crcTable.CRC16(c)
}

// encode formats a command and its arguments as
//	CMD arg arg*XXXX
// where XXXX is the CRC of everything before the star, in upper case hex
func encode(cmd string, args ...interface{}) []byte {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, cmd)
	for _, a := range args {
		switch v := a.(type) {
		case float64:
			parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
		case bool:
			if v {
				parts = append(parts, "1")
			} else {
				parts = append(parts, "0")
			}
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return seal([]byte(strings.Join(parts, " ")))
}

// seal appends the star and checksum to body
func seal(body []byte) []byte {
	return append(body, []byte(fmt.Sprintf("*%04X", checksum(body)))...)
}

// unseal verifies and strips the checksum from a frame
func unseal(frame []byte) ([]byte, error) {
	idx := bytes.LastIndexByte(frame, '*')
	if idx < 0 || len(frame)-idx != 5 {
		return nil, ErrMalformed
	}
	body := frame[:idx]
	sum, err := strconv.ParseUint(string(frame[idx+1:]), 16, 16)
	if err != nil {
		return nil, ErrMalformed
	}
	if uint16(sum) != checksum(body) {
		return nil, ErrBadChecksum
	}
	return body, nil
}

// decode parses a reply frame to cmd, returning the value after OK
func decode(cmd string, frame []byte) (string, error) {
	body, err := unseal(frame)
	if err != nil {
		return "", err
	}
	s := string(body)
	switch {
	case s == "OK":
		return "", nil
	case strings.HasPrefix(s, "OK "):
		return strings.TrimPrefix(s, "OK "), nil
	case s == "ERR" || strings.HasPrefix(s, "ERR "):
		return "", &BoardError{Cmd: cmd, Msg: strings.TrimSpace(strings.TrimPrefix(s, "ERR"))}
	default:
		return "", ErrMalformed
	}
}
