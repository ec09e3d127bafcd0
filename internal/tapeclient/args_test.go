package tapeclient

import "testing"

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestArchiveArgs(t *testing.T) {
	args := ArchiveArgs([]string{"-se=node1"}, "endit test archive", "/data/requestlists/abc")

	if args[0] != "archive" {
		t.Errorf("expected archive subcommand first, got %q", args[0])
	}
	if !contains(args, "-deletefiles") {
		t.Error("archive must pass -deletefiles")
	}
	if !contains(args, "-description=endit test archive") {
		t.Errorf("missing description flag, got %v", args)
	}
	if !contains(args, "-filelist=/data/requestlists/abc") {
		t.Errorf("missing filelist flag, got %v", args)
	}
	if !contains(args, "-se=node1") {
		t.Errorf("dsmc opts not threaded through, got %v", args)
	}
}

func TestRetrieveArgs(t *testing.T) {
	args := RetrieveArgs([]string{"-se=node1"}, []string{"-quiet"}, "/data/requestlists/def", "/data/in")

	if args[0] != "retrieve" {
		t.Errorf("expected retrieve subcommand first, got %q", args[0])
	}
	if !contains(args, "-replace=no") {
		t.Error("retrieve must never overwrite")
	}
	if !contains(args, "-followsymbolic=yes") {
		t.Error("retrieve must follow symlinks")
	}
	if last := args[len(args)-1]; last != "/data/in/" {
		t.Errorf("expected trailing indir with slash, got %q", last)
	}
}

func TestDeleteArgs(t *testing.T) {
	args := DeleteArgs([]string{"-se=node1"}, nil, "/data/requestlists/ghi")

	if args[0] != "delete" || args[1] != "archive" {
		t.Errorf("expected 'delete archive' subcommand, got %v", args[:2])
	}
	if !contains(args, "-noprompt") {
		t.Error("delete must pass -noprompt so it never blocks on stdin")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Outcome
	}{
		{"ANS1278W File excluded by an include-exclude statement.", OutcomePartialSkip},
		{"ANS1898I Volume 123456 is not currently available", OutcomeTransientVolume},
		{"ANS1302E No objects on server match query", OutcomeNotFound},
		{"ANS1345E No objects on server match '/data/out/ABC'", OutcomeAlreadyDeleted},
		{"ANS9999Z totally unheard-of code", OutcomeUnknown},
		{"a perfectly ordinary line of chatter", OutcomeUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.line); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestErrorCodePattern(t *testing.T) {
	matches := ErrorCodePattern.FindAllString("ANS1278W foo\nplain line\nANE4998S bar", -1)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
}
