package gobayeux

import "fmt"

// MessageExtender defines the interface that extensions are expected to
// implement
type MessageExtender interface {
	Outgoing(*Message)
	Incoming(*Message)
	Registered(extensionName string, client *BayeuxClient)
	Unregistered()
}

// NamedExtension is implemented by extensions that report their own name
// to Registered
type NamedExtension interface {
	Name() string
}

func extensionName(ext MessageExtender) string {
	if named, ok := ext.(NamedExtension); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", ext)
}
