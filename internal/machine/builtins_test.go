package machine

import "testing"

func TestCanWrite_DefersToParentWhenPathDoesNotExist(t *testing.T) {
	state := NewState()
	state.Filesystem["/data"] = Directory{Mode: 0o777, UID: 1000, GID: 1000}
	it := &Interp{state: state}

	// "/data/sub" doesn't exist yet, and neither does "/data/sub/leaf": both
	// must defer up to "/data", which the owning uid can write.
	if !it.canWrite("/data/sub/leaf") {
		t.Fatal("expected canWrite to defer through nonexistent parents to /data")
	}
}

func TestCanWrite_DeniedWhenAncestorIsNotWritable(t *testing.T) {
	state := NewState()
	// Tighten "/" to 0o755 owned by uid 0: EUID 1000 is "other" there and
	// has no write bit.
	state.Filesystem["/"] = Directory{Mode: 0o755}
	it := &Interp{state: state}

	if it.canWrite("/newdir") {
		t.Fatal("expected canWrite to deny when the deferred-to ancestor isn't writable")
	}
}

func TestCanWrite_ExistingFileUsesItsOwnBits(t *testing.T) {
	state := NewState()
	state.Filesystem["/notes"] = File{Mode: 0o444, UID: 1000, GID: 1000}
	it := &Interp{state: state}

	if it.canWrite("/notes") {
		t.Fatal("expected a read-only file to deny writes even in a writable directory")
	}
}

func TestCanWrite_RootBypassesEverything(t *testing.T) {
	state := NewState()
	state.EUID = 0
	it := &Interp{state: state}

	if !it.canWrite("/anything/deep/path") {
		t.Fatal("expected root to bypass every permission check (I4)")
	}
}

func TestBuiltinDirname_WritesParentPathToStdout(t *testing.T) {
	state := NewState()
	it := &Interp{state: state}

	code, err := builtinDirname(it, []string{"/tmp/foo"})
	if err != nil || code != 0 {
		t.Fatalf("builtinDirname: code=%d err=%v", code, err)
	}
	if string(state.Stdout) != "/tmp\n" {
		t.Fatalf("stdout = %q, want %q", state.Stdout, "/tmp\n")
	}
}

func TestBuiltinMkdir_DeniedWithoutParentWriteBit(t *testing.T) {
	state := NewState()
	state.Filesystem["/"] = Directory{Mode: 0o755}
	it := &Interp{state: state}

	code, err := builtinMkdir(it, []string{"/newdir"})
	if err == nil || code == 0 {
		t.Fatalf("expected mkdir to be denied, got code=%d err=%v", code, err)
	}
	evalErr, ok := err.(*EvalError)
	if !ok || evalErr.Kind != PermissionDenied {
		t.Fatalf("got %v, want PermissionDenied", err)
	}
}

func TestBuiltinMkdir_ParentsFlagIsIdempotentOnExistingDirectory(t *testing.T) {
	state := NewState()
	state.Filesystem["/data"] = Directory{Mode: 0o755, UID: 1000, GID: 1000}
	it := &Interp{state: state}

	code, err := builtinMkdir(it, []string{"-p", "/data"})
	if err != nil || code != 0 {
		t.Fatalf("mkdir -p on existing dir: code=%d err=%v", code, err)
	}
	if got := state.Filesystem["/data"].(Directory); got.Mode != 0o755 || got.UID != 1000 {
		t.Fatalf("mkdir -p must not touch the existing entry, got %#v", got)
	}
}

func TestBuiltinEcho_SuppressesNewlineWithDashN(t *testing.T) {
	state := NewState()
	it := &Interp{state: state}

	if _, err := builtinEcho(it, []string{"-n", "partial"}); err != nil {
		t.Fatalf("echo -n: %v", err)
	}
	if string(state.Stdout) != "partial" {
		t.Fatalf("stdout = %q, want %q", state.Stdout, "partial")
	}
}
