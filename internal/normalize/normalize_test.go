package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Normalize.Email(%q) = %q, want %q", in, got, want)
	}
}

func TestSearchableName(t *testing.T) {
	cases := []struct {
		name, display, email, want string
	}{
		{"display name wins", "Ann Lee", "ann@x.com", "ann lee"},
		{"falls back to email", "", "Ann2@X.com", "ann2@x.com"},
		{"blank display name", "   ", "bob@x.com", "bob@x.com"},
		{"nothing set", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SearchableName(tc.display, tc.email); got != tc.want {
				t.Fatalf("SearchableName(%q, %q) = %q, want %q", tc.display, tc.email, got, tc.want)
			}
		})
	}
}
