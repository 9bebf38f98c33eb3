package authority

// RequestWindow is how many add_player nonces are remembered per owner.
// Retries older than that create a new entity.
const RequestWindow = 8

type requestEntry struct {
	nonce    int32
	objectID int32
}

// requests remembers the object ids handed out for the last few add_player
// nonces of each owner, oldest first.
type requests map[int32][]requestEntry

func (r requests) lookup(owner, nonce int32) (int32, bool) {
	for _, req := range r[owner] {
		if req.nonce == nonce {
			return req.objectID, true
		}
	}
	return 0, false
}

func (r requests) remember(owner, nonce, objectID int32) {
	recent := r[owner]
	if len(recent) == RequestWindow {
		recent = append(recent[:0], recent[1:]...)
	}
	r[owner] = append(recent, requestEntry{nonce: nonce, objectID: objectID})
}
