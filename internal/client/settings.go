package client

import "github.com/roach88/fqlsync/internal/connstate"

// DefaultWorkerURL is used when Settings.WorkerURL is empty.
const DefaultWorkerURL = "ws://localhost:8090/fql"

// Settings are sent to the worker with the connect request.
type Settings struct {
	// ID is assigned by Connect.
	ID int `json:"id"`

	// Servers is the worker's upstream server list.
	Servers string `json:"servers,omitempty"`

	// Instance names the ledger the connection talks to. Required.
	Instance string `json:"instance"`

	// Token authenticates the connection up front.
	Token string `json:"token,omitempty"`

	// User and Anonymous carry an identity already established elsewhere.
	User      any  `json:"user,omitempty"`
	Anonymous bool `json:"anonymous"`

	// Log enables debug tracing of every worker message.
	Log bool `json:"log"`

	// RemoveNamespace asks the worker to strip namespaces from results.
	RemoveNamespace bool `json:"removeNamespace"`

	// WorkerURL locates the worker channel.
	WorkerURL string `json:"workerUrl,omitempty"`

	// AuthMode selects which identity field carries the session. Empty
	// means token when Token is set, user otherwise. Not sent to the worker.
	AuthMode connstate.AuthMode `json:"-"`
}

// DefaultSettings returns settings for instance with logging and namespace
// removal on.
func DefaultSettings(instance string) Settings {
	return Settings{
		Instance:        instance,
		Log:             true,
		RemoveNamespace: true,
	}
}

func (s Settings) authMode() connstate.AuthMode {
	if s.AuthMode != "" {
		return s.AuthMode
	}
	if s.Token != "" {
		return connstate.AuthToken
	}
	return connstate.AuthUser
}

// identity returns the identity the settings carry, or nil.
func (s Settings) identity() *connstate.Identity {
	switch {
	case s.Token != "":
		return &connstate.Identity{Token: s.Token}
	case s.User != nil:
		return &connstate.Identity{User: s.User, Anonymous: s.Anonymous}
	default:
		return nil
	}
}

func (s Settings) workerURL() string {
	if s.WorkerURL == "" {
		return DefaultWorkerURL
	}
	return s.WorkerURL
}
