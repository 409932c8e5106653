package backup

import "fmt"

// IOError is a local filesystem failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// RemoteStoreError is an upload, list or delete failure against the object store.
type RemoteStoreError struct {
	Op  string
	Err error
}

func (e *RemoteStoreError) Error() string {
	return fmt.Sprintf("remote store error during %s: %v", e.Op, e.Err)
}
func (e *RemoteStoreError) Unwrap() error { return e.Err }

// NotificationError is a webhook or SMTP failure.
type NotificationError struct {
	Op      string
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification error during %s (%s): %v", e.Op, e.Channel, e.Err)
}
func (e *NotificationError) Unwrap() error { return e.Err }

// ConfigError is missing or unusable configuration. It disables the affected
// feature rather than failing the run.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error for %s: %v", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }
