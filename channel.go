package gobayeux

import "strings"

// Channel represents a Bayeux Channel which is defined as "a string that
// looks like a URL path such as `/foo/bar`, `/meta/connect`, or
// `/service/chat`."
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels
type Channel string

const (
	// MetaHandshake is the Channel for the first message a new client sends.
	MetaHandshake Channel = "/meta/handshake"
	// MetaConnect is the Channel used for connect messages after a successful
	// handshake.
	MetaConnect Channel = "/meta/connect"
	// MetaDisconnect is the Channel used for disconnect messages.
	MetaDisconnect Channel = "/meta/disconnect"
	// MetaSubscribe is the Channel used by a client to subscribe to channels.
	MetaSubscribe Channel = "/meta/subscribe"
	// MetaUnsubscribe is the Channel used by a client to unsubscribe to
	// channels.
	MetaUnsubscribe Channel = "/meta/unsubscribe"
	emptyChannel    Channel = ""
)

// ChannelType is used to define the three types of channels:
// - meta channels, channels starting with `/meta/`
// - service channels, channels starting with `/service/`
// - broadcast channels, all other channels
type ChannelType string

const (
	// MetaChannel represents the `/meta/` channel type
	MetaChannel ChannelType = "meta"
	// ServiceChannel represents the `/service/` channel type
	ServiceChannel ChannelType = "service"
	// BroadcastChannel represents all other channels
	BroadcastChannel ChannelType = "broadcast"
)

const (
	metaPrefix     string = "/meta/"
	servicePrefix  string = "/service/"
	singleWildcard string = "*"
	deepWildcard   string = "**"
)

// Type provides the type of Channel this struct represents
func (c Channel) Type() ChannelType {
	s := string(c)
	switch {
	case strings.HasPrefix(s, metaPrefix):
		return MetaChannel
	case strings.HasPrefix(s, servicePrefix):
		return ServiceChannel
	default:
		return BroadcastChannel
	}
}

// HasWildcard indicates whether the Channel is a valid pattern containing a
// `*` or trailing `**` segment
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) HasWildcard() bool {
	if !c.IsValid() {
		return false
	}
	for _, segment := range c.segments() {
		if segment == singleWildcard || segment == deepWildcard {
			return true
		}
	}
	return false
}

// IsValid does its best to check the validity of a Channel. A `*` segment
// may appear in any position, `**` only as the final segment, and no other
// segment may contain `*`.
func (c Channel) IsValid() bool {
	s := string(c)
	if !strings.HasPrefix(s, "/") {
		return false
	}

	segments := c.segments()
	for i, segment := range segments {
		switch {
		case segment == singleWildcard:
		case segment == deepWildcard:
			if i != len(segments)-1 {
				return false
			}
		case strings.Contains(segment, "*"):
			return false
		}
	}
	return true
}

// Match checks if a given Channel matches this Channel when this Channel is
// used as a pattern.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) Match(other Channel) bool {
	return c.MatchString(string(other))
}

// MatchString checks if a given string matches this Channel when this
// Channel is used as a pattern.
func (c Channel) MatchString(other string) bool {
	if !strings.HasPrefix(string(c), "/") || !strings.HasPrefix(other, "/") {
		return false
	}
	if !strings.Contains(string(c), "*") {
		return string(c) == other
	}
	return matchSegments(c.segments(), strings.Split(other[1:], "/"))
}

// segments returns the `/` delimited pieces after the leading slash
func (c Channel) segments() []string {
	s := string(c)
	if len(s) < 2 {
		return nil
	}
	return strings.Split(s[1:], "/")
}

func matchSegments(pattern, channel []string) bool {
	for i, segment := range pattern {
		if segment == deepWildcard {
			// Only valid in the last position and it needs at least one
			// segment to consume
			if i != len(pattern)-1 || len(channel) <= i {
				return false
			}
			for _, rest := range channel[i:] {
				if rest == "" {
					return false
				}
			}
			return true
		}

		if i >= len(channel) {
			return false
		}

		switch segment {
		case singleWildcard:
			if channel[i] == "" {
				return false
			}
		default:
			if strings.Contains(segment, "*") || segment != channel[i] {
				return false
			}
		}
	}
	return len(pattern) == len(channel)
}
