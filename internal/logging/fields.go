package logging

import "time"

// Fields is a builder for structured logging key/value sets, assembled
// before a call site hands them to a logr.Logger or attaches them to an
// alert's details.
type Fields map[string]interface{}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) EventID(id string) Fields {
	f["event_id"] = id
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// KeysAndValues flattens the field set into the alternating key/value slice
// logr.Logger.Info/Error expect.
func (f Fields) KeysAndValues() []interface{} {
	kv := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		kv = append(kv, k, v)
	}
	return kv
}

// QueueFields is the standard field set for queue operations.
func QueueFields(operation, eventID string) Fields {
	return NewFields().Component("queue").Operation(operation).EventID(eventID)
}

// WatcherFields is the standard field set for log-watcher operations.
func WatcherFields(operation string) Fields {
	return NewFields().Component("log-watcher").Operation(operation)
}

// DispatcherFields is the standard field set for dispatcher operations.
func DispatcherFields(operation, eventID string) Fields {
	return NewFields().Component("dispatcher").Operation(operation).EventID(eventID)
}
