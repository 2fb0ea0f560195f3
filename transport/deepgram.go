package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"medscribe/log"
)

// DeepgramDialer opens duplex streams against a Deepgram-style listen
// endpoint. The client sends raw PCM16 mono frames; the server sends
// JSON results distinguishing interim from final transcripts.
type DeepgramDialer struct {
	Model      string
	Language   string
	SampleRate int
	Channels   int
}

type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *DeepgramDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	endpoint, err := url.Parse(creds.URL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	q := endpoint.Query()
	model := d.Model
	if model == "" {
		model = "nova-2"
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", "300")
	if d.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", d.SampleRate))
	}
	if d.Channels > 0 {
		q.Set("channels", fmt.Sprintf("%d", d.Channels))
	}
	if d.Language != "" {
		q.Set("language", d.Language)
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+creds.Key)

	streamCtx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, endpoint.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, err
	}

	return &deepgramConn{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

type deepgramConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *deepgramConn) Send(_ context.Context, pcm []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageBinary, pcm)
}

func (c *deepgramConn) Recv(_ context.Context) (Message, error) {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return Message{}, err
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warnf("malformed transcription message: %v", err)
			continue
		}
		if resp.Type != "Results" {
			continue
		}

		msg := Message{
			IsFinal:     resp.IsFinal,
			SpeechFinal: resp.SpeechFinal,
		}
		if len(resp.Channel.Alternatives) > 0 {
			alt := resp.Channel.Alternatives[0]
			msg.Transcript = alt.Transcript
			msg.Confidence = alt.Confidence
		}
		return msg, nil
	}
}

func (c *deepgramConn) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
