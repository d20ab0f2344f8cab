package params

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/PeladoCollado/fractalload/types"
)

// StreamReader is a ParamsSource that iterates over a file of JSON job parameters, looping at EOF.
type StreamReader struct {
	decoder *json.Decoder
	r       io.Reader
}

func NewFileReader(file string) (types.ParamsSource, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	return NewStreamReader(fh), nil
}

func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		decoder: json.NewDecoder(r),
		r:       r,
	}
}

func (s *StreamReader) Next() (types.JobParams, error) {
	looped := false
	for {
		next := types.JobParams{}
		err := s.decoder.Decode(&next)
		if errors.Is(err, io.EOF) {
			if looped {
				return types.JobParams{}, errors.New("parameter stream contains no entries")
			}
			if resetErr := s.Reset(); resetErr != nil {
				return types.JobParams{}, resetErr
			}
			looped = true
			continue
		}
		if err != nil {
			return types.JobParams{}, err
		}
		return next, nil
	}
}

func (s *StreamReader) Reset() error {
	if seeker, ok := s.r.(io.Seeker); ok {
		_, err := seeker.Seek(0, io.SeekStart)
		if err != nil {
			return err
		}
		s.decoder = json.NewDecoder(s.r)
		return nil
	} else {
		return io.EOF
	}
}

func (s *StreamReader) Close() error {
	if closer, ok := s.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
