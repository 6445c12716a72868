package pathmap

import (
	"regexp"
	"strings"
)

// Mapping pairs one host-visible prefix with its container-visible form.
type Mapping struct {
	HostPrefix      string
	ContainerPrefix string
}

// Translator converts paths between the native host form and the POSIX
// mounted form.
type Translator struct {
	mappings []Mapping
}

// argumentKeys is the conservative list of tools/call argument fields whose
// values are treated as paths.
var argumentKeys = map[string]bool{
	"path":        true,
	"file_path":   true,
	"directory":   true,
	"source":      true,
	"destination": true,
	"paths":       true,
}

var (
	// pathToolName matches tool names whose arguments are rewritten even
	// under unlisted keys.
	pathToolName = regexp.MustCompile(`read|write|create|delete|list|move|copy`)

	// responseKey matches response fields whose string values are rewritten.
	responseKey = regexp.MustCompile(`path|file|directory|folder`)

	// driveNative matches X:\... and X:/... native drive paths.
	driveNative = regexp.MustCompile(`^([A-Za-z]):[\\/]`)

	// driveMounted matches the /mnt/<drive>/ prefix of the POSIX view.
	driveMounted = regexp.MustCompile(`^/mnt/([A-Za-z])(/|$)`)
)

// NewTranslator creates a translator with the given prefix mappings. The
// generic drive rule applies after explicit mappings.
func NewTranslator(mappings []Mapping) *Translator {
	return &Translator{mappings: mappings}
}

// ToNative converts a container-visible path into the host's native form.
// Paths already in native form come back unchanged.
func (t *Translator) ToNative(path string) string {
	for _, m := range t.mappings {
		if rest, ok := cutPrefix(path, m.ContainerPrefix); ok {
			return m.HostPrefix + strings.ReplaceAll(rest, "/", `\`)
		}
	}
	if sub := driveMounted.FindStringSubmatch(path); sub != nil {
		drive := strings.ToUpper(sub[1])
		rest := path[len("/mnt/")+1:]
		rest = strings.TrimPrefix(rest, "/")
		return drive + `:\` + strings.ReplaceAll(rest, "/", `\`)
	}
	return path
}

// ToMounted converts a native host path into the container-visible POSIX
// form. Paths already in mounted form come back unchanged.
func (t *Translator) ToMounted(path string) string {
	for _, m := range t.mappings {
		if rest, ok := cutPrefix(path, m.HostPrefix); ok {
			return m.ContainerPrefix + strings.ReplaceAll(rest, `\`, "/")
		}
	}
	if sub := driveNative.FindStringSubmatch(path); sub != nil {
		drive := strings.ToLower(sub[1])
		rest := path[len(sub[0]):]
		return "/mnt/" + drive + "/" + strings.ReplaceAll(rest, `\`, "/")
	}
	return path
}

// RewriteArguments translates path-like fields of an outgoing tools/call.
// A field is rewritten when its key is on the conservative list or when the
// tool name suggests filesystem access. The input map is not modified.
func (t *Translator) RewriteArguments(toolName string, args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	toolTouchesPaths := pathToolName.MatchString(strings.ToLower(toolName))

	out := make(map[string]interface{}, len(args))
	for key, value := range args {
		if argumentKeys[strings.ToLower(key)] || toolTouchesPaths {
			out[key] = t.rewriteValue(value, t.ToNative)
		} else {
			out[key] = value
		}
	}
	return out
}

// RewriteResponse recursively translates string values under path-like keys
// of a backend response back into the container-visible form.
func (t *Translator) RewriteResponse(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			if s, ok := val.(string); ok && responseKey.MatchString(strings.ToLower(key)) {
				out[key] = t.ToMounted(s)
			} else {
				out[key] = t.RewriteResponse(val)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = t.RewriteResponse(val)
		}
		return out
	default:
		return value
	}
}

// rewriteValue applies fn to a string or to each string of a slice.
func (t *Translator) rewriteValue(value interface{}, fn func(string) string) interface{} {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				out[i] = fn(s)
			} else {
				out[i] = item
			}
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = fn(s)
		}
		return out
	default:
		return value
	}
}

func cutPrefix(path, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}
