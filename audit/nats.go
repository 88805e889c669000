package audit

import (
	"encoding/json"
	"time"

	"github.com/LdDl/mot-sentry/mot"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix is prepended to lower-case event type: sentry.audit.person_entered
const DefaultSubjectPrefix = "sentry.audit"

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON messages
type NATSSink struct {
	publisher Publisher
	prefix    string
}

// NewNATSSink creates sink. Empty prefix means DefaultSubjectPrefix.
func NewNATSSink(publisher Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{
		publisher: publisher,
		prefix:    prefix,
	}
}

// Subject returns subject for event
func (s *NATSSink) Subject(event mot.Event) string {
	return s.prefix + "." + event.Subject()
}

// Emit implements mot.EventSink
func (s *NATSSink) Emit(event mot.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "Can't marshal audit event")
	}
	subject := s.Subject(event)
	if err := s.publisher.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "Can't publish audit event to '%s'", subject)
	}
	return nil
}

// ConnectNATS connects to NATS with reconnect handling
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	logger.Info().Str("url", url).Msg("Connecting to NATS")
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't connect to NATS")
	}
	return nc, nil
}
