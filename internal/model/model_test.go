package model

import "testing"

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		in   string
		want Difficulty
	}{
		{"Easy", DifficultyEasy},
		{" hard ", DifficultyHard},
		{"MEDIUM", DifficultyMedium},
		{"", DifficultyMedium},
		{"unknown", DifficultyMedium},
	}

	for _, tt := range tests {
		if got := ParseDifficulty(tt.in); got != tt.want {
			t.Errorf("ParseDifficulty(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername("  Alice_01 "); got != "alice_01" {
		t.Errorf("NormalizeUsername = %q, want %q", got, "alice_01")
	}
}

func TestSolutionURLs(t *testing.T) {
	if got := ProblemURLForSlug("two-sum"); got != "https://leetcode.com/problems/two-sum/" {
		t.Errorf("ProblemURLForSlug = %q", got)
	}
	if got := SubmissionURL("123"); got != "https://leetcode.com/submissions/detail/123/" {
		t.Errorf("SubmissionURL = %q", got)
	}
}

func TestHasCodeAndSession(t *testing.T) {
	if (&Solution{}).HasCode() {
		t.Error("empty code should report HasCode() == false")
	}
	if !(&Solution{Code: "x"}).HasCode() {
		t.Error("non-empty code should report HasCode() == true")
	}
	if (&TrackedUser{}).HasSession() {
		t.Error("empty session should report HasSession() == false")
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewTrackedUserNotFoundError("alice")
	if err.Code != ErrCodeTrackedUserNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeTrackedUserNotFound)
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}
