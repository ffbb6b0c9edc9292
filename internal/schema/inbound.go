// Package schema defines the wire types exchanged with the market data service.
package schema

import (
	"bytes"

	json "github.com/goccy/go-json"

	"github.com/coachpo/pulse/errs"
)

// Kind is the discriminator carried in the "type" field of inbound frames.
type Kind string

const (
	// KindUpdate is the unified incremental update.
	KindUpdate Kind = "update"
	// KindFeedPush is a single live feed message.
	KindFeedPush Kind = "telegram_update"
	// KindPrices is the legacy full price payload.
	KindPrices Kind = "prices"
)

// Inbound is a decoded frame. The set of implementations is closed to this package.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Update carries an optional price delta and optional feed messages. Feed entries that
// fail to decode are collected in Rejected and never affect the prices.
type Update struct {
	Prices   *PriceUpdate
	Messages []Message
	Rejected []RejectedMessage
}

// RejectedMessage is a feed entry that could not be decoded.
type RejectedMessage struct {
	Raw []byte
	Err error
}

// FeedPush carries one live feed message.
type FeedPush struct {
	Message Message
}

// Prices carries a legacy price payload.
type Prices struct {
	Prices PriceUpdate
}

func (Update) Kind() Kind   { return KindUpdate }
func (FeedPush) Kind() Kind { return KindFeedPush }
func (Prices) Kind() Kind   { return KindPrices }

func (Update) inbound()   {}
func (FeedPush) inbound() {}
func (Prices) inbound()   {}

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type updateData struct {
	Prices   *PriceUpdate    `json:"prices"`
	Telegram json.RawMessage `json:"telegram"`
}

// Decode parses one text frame into its variant.
func Decode(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, decodeErr("malformed frame", err)
	}
	if isNull(env.Data) {
		return nil, errs.New("schema", errs.CodeDecode,
			errs.WithMessage("frame without data"), errs.WithField("type", string(env.Type)))
	}

	switch env.Type {
	case KindUpdate:
		var data updateData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, decodeErr("malformed update", err)
		}
		msgs, rejected := decodeMessages(data.Telegram)
		return Update{Prices: data.Prices, Messages: msgs, Rejected: rejected}, nil
	case KindFeedPush:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, decodeErr("malformed telegram_update", err)
		}
		return FeedPush{Message: msg}, nil
	case KindPrices:
		var prices PriceUpdate
		if err := json.Unmarshal(env.Data, &prices); err != nil {
			return nil, decodeErr("malformed prices", err)
		}
		return Prices{Prices: prices}, nil
	default:
		return nil, errs.New("schema", errs.CodeDecode,
			errs.WithMessage("unknown message type"), errs.WithField("type", string(env.Type)))
	}
}

// decodeMessages accepts either a single message object or an array of messages. Each
// entry is decoded on its own so one bad message cannot drop the others.
func decodeMessages(raw json.RawMessage) ([]Message, []RejectedMessage) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	entries := []json.RawMessage{trimmed}
	if trimmed[0] == '[' {
		entries = nil
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, []RejectedMessage{{Raw: trimmed, Err: err}}
		}
	}

	var (
		msgs     []Message
		rejected []RejectedMessage
	)
	for _, entry := range entries {
		var msg Message
		if err := json.Unmarshal(entry, &msg); err != nil {
			rejected = append(rejected, RejectedMessage{Raw: entry, Err: err})
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, rejected
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeErr(msg string, cause error) error {
	return errs.New("schema", errs.CodeDecode, errs.WithMessage(msg), errs.WithCause(cause))
}
