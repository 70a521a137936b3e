package user

import "testing"

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RolePatient, RoleDoctor, RoleAdmin} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("nurse").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestColumns_PrefixesAlias(t *testing.T) {
	got := Columns("u")
	want := "u.id, u.email, u.first_name, u.last_name, u.phone, u.role, u.is_verified, u.created_at, u.updated_at"
	if got != want {
		t.Errorf("Columns = %q, want %q", got, want)
	}
	var u User
	if n := len(ScanTargets(&u)); n != 9 {
		t.Errorf("ScanTargets returned %d targets, want 9", n)
	}
}
