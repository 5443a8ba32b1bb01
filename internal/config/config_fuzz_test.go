package config

import (
	"os"
	"strconv"
	"strings"
	"testing"
)

// FuzzServiceTOML feeds random-ish fields into a tiny TOML and ensures the
// loader does not panic.
func FuzzServiceTOML(f *testing.F) {
	f.Add("web", "app", 8101, "/health", "")
	f.Add("", "", 0, "", "web")
	f.Add("a b", "../x", -1, "h", "a b")

	f.Fuzz(func(t *testing.T, key, workDir string, port int, health, dep string) {
		clean := func(s string) string {
			s = strings.ReplaceAll(s, "\"", "")
			s = strings.ReplaceAll(s, "\\", "")
			return strings.ReplaceAll(s, "\n", "")
		}
		b := strings.Builder{}
		b.WriteString("[[services]]\n")
		b.WriteString("key = \"" + clean(key) + "\"\n")
		b.WriteString("work_dir = \"" + clean(workDir) + "\"\n")
		b.WriteString("start_args = [\"-m\", \"app\"]\n")
		if port > -100000 && port < 100000 {
			b.WriteString("port = " + strconv.Itoa(port) + "\n")
		}
		if health != "" {
			b.WriteString("health_path = \"" + clean(health) + "\"\n")
		}
		if dep != "" {
			b.WriteString("depends_on = [\"" + clean(dep) + "\"]\n")
		}
		tmp := t.TempDir() + "/fuzz.toml"
		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		_, _ = Load(tmp) // must not panic
	})
}
