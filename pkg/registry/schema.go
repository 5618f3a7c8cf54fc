// pkg/registry/schema.go
package registry

// ActivityRegistry lists every task type the worker manager serves, with the
// JSON schema its job variables must satisfy.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

type Activity struct {
	ID                   string                 `json:"id"`
	DisplayName          string                 `json:"displayName"`
	Description          string                 `json:"description"`
	Category             string                 `json:"category"`
	Version              string                 `json:"version"`
	TaskType             string                 `json:"taskType"`
	ImplementationStatus string                 `json:"implementationStatus"`
	InputSchema          map[string]interface{} `json:"inputSchema"`
	OutputSchema         map[string]interface{} `json:"outputSchema"`
	ErrorCodes           []string               `json:"errorCodes"`
	Timeout              string                 `json:"timeout"`
	Retries              int                    `json:"retries"`
	Workflows            []string               `json:"workflows"`
	Tags                 []string               `json:"tags"`
}

// Categories are the worker groups under internal/workers.
var Categories = []string{"application", "milestone", "disbursal", "grant", "communication"}

// Statuses are the implementation states an activity moves through.
var Statuses = []string{"planned", "in-progress", "completed", "verified"}

func ValidCategory(c string) bool { return contains(Categories, c) }

func ValidStatus(s string) bool { return contains(Statuses, s) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
