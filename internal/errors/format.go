package errors

// FormatForCLI renders err as a single line suitable for stderr.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	re, ok := err.(*RagrepError)
	if !ok {
		return "error: " + err.Error()
	}
	return "error: " + re.Message
}

// LogAttrs returns key-value pairs suitable for a slog.Logger call,
// e.g. logger.Error("index failed", errors.LogAttrs(err)...).
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	re, ok := err.(*RagrepError)
	if !ok {
		return []any{"error", err.Error()}
	}
	attrs := []any{
		"kind", string(re.Kind),
		"severity", string(re.Severity),
		"retryable", re.Retryable,
		"message", re.Message,
	}
	if re.Path != "" {
		attrs = append(attrs, "path", re.Path)
	}
	if re.Cause != nil {
		attrs = append(attrs, "cause", re.Cause.Error())
	}
	return attrs
}

// WireMessage is the `message` payload of a protocol Error envelope.
type WireMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ToWire converts err into the daemon protocol's error payload shape.
func ToWire(err error) WireMessage {
	re, ok := err.(*RagrepError)
	if !ok {
		return WireMessage{Kind: string(KindIO), Message: err.Error()}
	}
	return WireMessage{Kind: string(re.Kind), Message: re.Message, Path: re.Path}
}
