package backend

// Frame is the JSON wire unit of the backend collection protocol, shared by
// the client store and the service. Requests carry an op and a correlation
// seq; responses echo the seq. Server-push change frames have op "change"
// and name only the collection that changed.
type Frame struct {
	Seq        uint64            `json:"seq,omitempty"`
	Op         string            `json:"op"`
	Collection string            `json:"collection,omitempty"`
	ID         string            `json:"id,omitempty"`
	Filter     map[string]string `json:"filter,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Rows       []Row             `json:"rows,omitempty"`
	Row        *Row              `json:"row,omitempty"`
	Count      int               `json:"count,omitempty"`
	Err        string            `json:"err,omitempty"`
}

// Wire operations.
const (
	OpList   = "list"
	OpInsert = "insert"
	OpUpdate = "update"
	OpUpsert = "upsert"
	OpDelete = "delete"
	OpChange = "change"
)
