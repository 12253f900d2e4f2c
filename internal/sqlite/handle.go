package sqlite

// Handle is an opaque capability token standing for an engine resource
// (a function context or an argument value) for the duration of one
// callback. Only the connection that minted a handle can exchange it for the
// resource, and only while the callback that minted it is still running.
type Handle uint64

type handleKind uint8

const (
	contextHandle handleKind = iota + 1
	valueHandle
)

type handleEntry struct {
	kind handleKind
	ptr  uintptr
}

// handleTable maps live handles to native pointers. It is owned by one
// connection and, like the connection, must not be used concurrently.
type handleTable struct {
	next    Handle
	entries map[Handle]handleEntry
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[Handle]handleEntry)}
}

func (t *handleTable) mint(kind handleKind, ptr uintptr) Handle {
	t.next++
	t.entries[t.next] = handleEntry{kind: kind, ptr: ptr}
	return t.next
}

func (t *handleTable) lookup(kind handleKind, h Handle) (uintptr, bool) {
	e, ok := t.entries[h]
	if !ok || e.kind != kind {
		return 0, false
	}
	return e.ptr, true
}

// enter mints a context handle and one value handle per argument.
func (t *handleTable) enter(ctx uintptr, argv []uintptr) (Handle, []Handle) {
	h := t.mint(contextHandle, ctx)
	if len(argv) == 0 {
		return h, nil
	}
	args := make([]Handle, len(argv))
	for i, p := range argv {
		args[i] = t.mint(valueHandle, p)
	}
	return h, args
}

func (t *handleTable) leave(h Handle, args []Handle) {
	delete(t.entries, h)
	for _, a := range args {
		delete(t.entries, a)
	}
}

func (t *handleTable) live() int {
	return len(t.entries)
}
