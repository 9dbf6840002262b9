package marketplace

import (
	"strings"
	"testing"
)

func TestValidateVerification(t *testing.T) {
	valid := VerificationResult{Approved: true, Score: 75, Reasoning: "matches the task criteria"}

	cases := []struct {
		name    string
		id      string
		res     VerificationResult
		wantErr string
	}{
		{"valid", "sub-1", valid, ""},
		{"empty id", "", valid, "submission_id"},
		{"score too high", "sub-1", VerificationResult{Approved: true, Score: 101, Reasoning: "r"}, "score"},
		{"score negative", "sub-1", VerificationResult{Approved: false, Score: -1, Reasoning: "r"}, "score"},
		{"empty reasoning", "sub-1", VerificationResult{Approved: true, Score: 50}, "reasoning"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateVerification(tc.id, tc.res)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidTaskType(t *testing.T) {
	for _, typ := range []TaskType{TaskTypeTextVerification, TaskTypeImageLabeling, TaskTypeSurvey, TaskTypeContentModeration} {
		if !ValidTaskType(typ) {
			t.Fatalf("%s should be valid", typ)
		}
	}
	if ValidTaskType("video-captioning") {
		t.Fatalf("unknown type accepted")
	}
}
