package core

import (
	"context"
	"errors"
)

// TopicFunc computes the publish topics of an agent from its output.
type TopicFunc func(ctx context.Context, output Message) ([]string, error)

// PublishTopic is either a fixed list of topic names or a TopicFunc. The zero
// value publishes nowhere.
type PublishTopic struct {
	static []string
	fn     TopicFunc
}

// Topics returns a PublishTopic publishing to the given names.
func Topics(names ...string) PublishTopic {
	return PublishTopic{static: append([]string(nil), names...)}
}

// TopicFromFunc returns a PublishTopic computed per output by fn.
func TopicFromFunc(fn TopicFunc) PublishTopic {
	return PublishTopic{fn: fn}
}

// IsZero reports whether the PublishTopic publishes nowhere.
func (p PublishTopic) IsZero() bool { return p.fn == nil && len(p.static) == 0 }

// IsDynamic reports whether topics are computed per output.
func (p PublishTopic) IsDynamic() bool { return p.fn != nil }

// Resolve returns the topics for output. Empty names are dropped.
func (p PublishTopic) Resolve(ctx context.Context, output Message) ([]string, error) {
	names := p.static
	if p.fn != nil {
		var err error
		names, err = p.fn(ctx, output)
		if err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// ErrTopicFunc is matched by errors returned from a failing TopicFunc.
var ErrTopicFunc = errors.New("publish topic function failed")
