package threat

import (
	"net/url"
	"testing"
)

func TestDetectSQLInjection(t *testing.T) {
	d := Default()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"stacked drop", "'; DROP TABLE users; --", true},
		{"union select", "1 UNION SELECT password FROM users", true},
		{"union all select", "x union all select 1,2", true},
		{"boolean quoted", "' or '1'='1", true},
		{"boolean numeric after quote", "5' or 1=1", true},
		{"boolean numeric after paren", "1) OR 1=1", true},
		{"delete with where", "1; DELETE FROM users WHERE id > 0", true},
		{"delete at end", "delete from accounts", true},
		{"delete in prose", "Please delete from my list the old notice", false},
		{"arithmetic prose", "2 and 2 = 4", false},
		{"numeric without quote", "page 3 or 4=4 of the manual", false},
		{"comment after quote", "admin'--", true},
		{"hash comment", "admin' #", true},
		{"sleep", "1 AND SLEEP(5)", true},
		{"waitfor", "'; WAITFOR DELAY '0:0:5'", true},
		{"xp_cmdshell", "exec xp_cmdshell 'dir'", true},
		{"irish surname", "John O'Brien", false},
		{"plain sentence", "Please select a date from the calendar", false},
		{"email", "john.doe@example.com", false},
		{"phone", "+998 90 123-45-67", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.DetectSQLInjection(tt.input); got != tt.want {
				t.Fatalf("DetectSQLInjection(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectXSS(t *testing.T) {
	d := Default()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"script tag", "<script>alert(1)</script>", true},
		{"script spaced", "< script src=//evil>", true},
		{"javascript url", "javascript:alert(1)", true},
		{"event handler", `<img src=x onerror=alert(1)>`, true},
		{"iframe", `<iframe src="//evil">`, true},
		{"object", "<object data=x>", true},
		{"embed", "<embed src=x>", true},
		{"bold text", "Hello <b>World</b>", false},
		{"slash event handler", `<svg/onload=alert(1)>`, true},
		{"onion word", "onion = tasty", false},
		{"less than prose", "x < y online=true", false},
		{"unclosed tag with handler", "<b and c onclick = d", true},
		{"plain", "just text", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.DetectXSS(tt.input); got != tt.want {
				t.Fatalf("DetectXSS(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

type profile struct {
	Name    string
	Tags    []string
	private string
}

func TestDetectRecursesIntoComposites(t *testing.T) {
	d := Default()

	body := map[string]any{
		"person": map[string]any{
			"name": "John O'Brien",
			"notes": []any{
				"fine",
				map[string]any{"deep": "<script>alert(1)</script>"},
			},
		},
	}
	if !d.DetectXSS(body) {
		t.Fatal("expected nested XSS to be detected")
	}
	if d.DetectSQLInjection(body) {
		t.Fatal("unexpected SQL injection in body")
	}

	q := url.Values{"q": {"ok", "1 union select 2"}}
	if !d.DetectSQLInjection(q) {
		t.Fatal("expected SQL injection in query values")
	}

	if !d.DetectSQLInjection(map[string]any{"'; drop table x; --": 1}) {
		t.Fatal("expected SQL injection in map key")
	}

	p := &profile{Name: "ok", Tags: []string{"a", "javascript:void(0)"}, private: "<script>"}
	if !d.DetectXSS(p) {
		t.Fatal("expected XSS in struct slice field")
	}
	if d.DetectXSS(&profile{Name: "ok", private: "<script>"}) {
		t.Fatal("unexported fields must be ignored")
	}
}

func TestScan(t *testing.T) {
	d := Default()
	if got := d.Scan("'; DROP TABLE users; --"); got != SQLInjection {
		t.Fatalf("expected SQLInjection, got %v", got)
	}
	if got := d.Scan("<script>"); got != XSS {
		t.Fatalf("expected XSS, got %v", got)
	}
	if got := d.Scan(map[string]any{"a": 1, "b": nil}); got != None {
		t.Fatalf("expected None, got %v", got)
	}
}

func TestNewWithExtraPatterns(t *testing.T) {
	d, err := New(Config{ExtraSQLPatterns: []string{`(?i)\binformation_schema\b`}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !d.DetectSQLInjection("select * from INFORMATION_SCHEMA.tables") {
		t.Fatal("expected extra pattern to match")
	}

	if _, err := New(Config{ExtraXSSPatterns: []string{"("}}); err == nil {
		t.Fatal("expected invalid pattern error")
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		`  <b>"Hi"</b>  `: "bHi/b",
		"O'Brien":         "OBrien",
		"plain":           "plain",
		"   ":             "",
	}
	for in, want := range tests {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
