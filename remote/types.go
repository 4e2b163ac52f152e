package remote

// CreateRequest asks the server to create an instance. Config holds §4.4-style
// key/value settings applied before the instance starts.
type CreateRequest struct {
	Name    string            `json:"name,omitempty"`
	Command []string          `json:"command"`
	Config  map[string]string `json:"config,omitempty"`
}

// InstanceInfo describes one live instance.
type InstanceInfo struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	Command       []string `json:"command"`
	Running       bool     `json:"running"`
	LockAvailable bool     `json:"lock_available"`
}

// ConfigSetRequest sets one config key.
type ConfigSetRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// evalRequestMessage is sent client->server over the evaluate WebSocket. One
// message is one evaluate call; a connection can carry any number of calls in
// sequence.
type evalRequestMessage struct {
	Lines []string `json:"lines"`
}

// evalResponseMessage is sent server->client with the outcome of one call.
type evalResponseMessage struct {
	Lines []string `json:"lines"`
	Err   string   `json:"err,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
