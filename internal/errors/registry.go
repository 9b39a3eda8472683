package errors

import (
	"sort"
	"sync"
)

// Error codes.
const (
	CodeUnknownFunction  = "B001"
	CodeUnknownCallback  = "B002"
	CodeMalformedMessage = "B003"
	CodeNotAuthenticated = "B004"
	CodeHandlerFailed    = "B005"
	CodeHandlerTimeout   = "B006"
	CodeHandlerPanic     = "B007"
	CodeNoClient         = "B008"
	CodeClientClosed     = "B009"
	CodeClientNotReady   = "B010"
	CodeQueueFull        = "B011"
	CodeMissingID        = "B012"
	CodeRateLimited      = "B013"
	CodeWriteFailed      = "B014"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]ErrorTemplate{
		CodeUnknownFunction:  {Category: CategoryRouting, Message: "unknown function"},
		CodeUnknownCallback:  {Category: CategoryRouting, Message: "no callback registered"},
		CodeMalformedMessage: {Category: CategoryProtocol, Message: "malformed message"},
		CodeNotAuthenticated: {Category: CategoryAuthorization, Message: "not authenticated"},
		CodeHandlerFailed:    {Category: CategoryApplication, Message: "handler failed"},
		CodeHandlerTimeout:   {Category: CategoryTimeout, Message: "handler timed out"},
		CodeHandlerPanic:     {Category: CategoryApplication, Message: "handler panicked"},
		CodeNoClient:         {Category: CategoryTransport, Message: "no client for key"},
		CodeClientClosed:     {Category: CategoryTransport, Message: "client is no longer open"},
		CodeClientNotReady:   {Category: CategoryTimeout, Message: "client not ready"},
		CodeQueueFull:        {Category: CategoryCapacity, Message: "server busy"},
		CodeMissingID:        {Category: CategoryProtocol, Message: "message has no id"},
		CodeRateLimited:      {Category: CategoryCapacity, Message: "rate limited"},
		CodeWriteFailed:      {Category: CategoryTransport, Message: "write failed"},
	}
)

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces an error template.
func Register(code string, template ErrorTemplate) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[code] = template
}
