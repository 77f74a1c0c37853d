package types

// Project is the top of the ownership chain: a Project owns Sessions,
// which own Threads and Tasks.
type Project struct {
	ID      string `json:"id"`
	Root    string `json:"root"`
	Created int64  `json:"created"`
}
