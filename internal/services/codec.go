package services

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"vigil-backend/internal/models"
)

const (
	EncodingGzipBase64 = "gzip+base64"
	EncodingBase64     = "base64"

	maxDecodedBytes = 1 << 20
)

// deltaEvent is the compact wire form. p/dp and c/dc are absolute or relative
// to the previous event; omitted r, v and h repeat the previous value.
type deltaEvent struct {
	Y  *string        `json:"y"`
	P  *float64       `json:"p"`
	DP *float64       `json:"dp"`
	R  *float64       `json:"r"`
	V  *float64       `json:"v"`
	H  *bool          `json:"h"`
	C  *int64         `json:"c"`
	DC *int64         `json:"dc"`
	A  map[string]any `json:"a"`
}

type deltaBatch struct {
	Events []deltaEvent `json:"events"`
}

// decodeBatch returns the plain events of a batch request, expanding an
// encoded delta payload when one is present.
func decodeBatch(req models.EventBatchRequest) ([]models.EventInput, error) {
	if req.Encoding == "" && req.Payload == "" {
		return req.Events, nil
	}
	if len(req.Events) > 0 {
		return nil, &ValidationError{Fields: map[string]string{"payload": "send either events or an encoded payload, not both"}}
	}
	if req.Payload == "" {
		return nil, &DecompressionError{Message: "Encoded batch has an empty payload"}
	}

	raw, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return nil, &DecompressionError{Message: "Payload is not valid base64"}
	}

	switch req.Encoding {
	case EncodingGzipBase64:
		raw, err = gunzip(raw)
		if err != nil {
			return nil, err
		}
	case EncodingBase64:
		if len(raw) > maxDecodedBytes {
			return nil, &DecompressionError{Message: "Decoded payload is too large"}
		}
	default:
		return nil, &ValidationError{Fields: map[string]string{"encoding": fmt.Sprintf("unsupported encoding %q", req.Encoding)}}
	}

	var batch deltaBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, &DecompressionError{Message: "Decoded payload is not a valid event batch"}
	}
	return expandDeltas(batch.Events)
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecompressionError{Message: "Payload is not valid gzip"}
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecodedBytes+1))
	if err != nil {
		return nil, &DecompressionError{Message: "Payload could not be decompressed"}
	}
	if len(out) > maxDecodedBytes {
		return nil, &DecompressionError{Message: "Decoded payload is too large"}
	}
	return out, nil
}

func expandDeltas(deltas []deltaEvent) ([]models.EventInput, error) {
	out := make([]models.EventInput, 0, len(deltas))

	var (
		prevTS    *float64
		prevClock *int64
		rate      *float64
		volume    *float64
		visible   *bool
	)

	for i, d := range deltas {
		in := models.EventInput{
			EventType:      d.Y,
			AdditionalData: d.A,
		}

		switch {
		case d.P != nil:
			ts := *d.P
			in.TimestampInVideo = &ts
		case d.DP != nil:
			if prevTS == nil {
				return nil, &DecompressionError{Message: fmt.Sprintf("Event %d has a relative position without a previous one", i)}
			}
			ts := *prevTS + *d.DP
			in.TimestampInVideo = &ts
		}
		if in.TimestampInVideo != nil {
			prevTS = in.TimestampInVideo
		}

		var clock *int64
		switch {
		case d.C != nil:
			c := *d.C
			clock = &c
		case d.DC != nil:
			if prevClock == nil {
				return nil, &DecompressionError{Message: fmt.Sprintf("Event %d has a relative client time without a previous one", i)}
			}
			c := *prevClock + *d.DC
			clock = &c
		}
		if clock != nil {
			t := time.UnixMilli(*clock).UTC()
			in.ClientTimestamp = &t
			prevClock = clock
		}

		if d.R != nil {
			rate = d.R
		}
		if d.V != nil {
			volume = d.V
		}
		if d.H != nil {
			visible = d.H
		}
		in.PlaybackRate = rate
		in.Volume = volume
		in.IsTabVisible = visible

		out = append(out, in)
	}
	return out, nil
}
