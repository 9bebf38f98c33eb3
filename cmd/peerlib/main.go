// Command peerlib builds the peer as a c-shared library for game engines
// that can't host a Go process:
//
//	go build -buildmode=c-shared -o libnetplay.so ./cmd/peerlib
package main

// #include <stdlib.h>
import "C"

import (
	"context"
	"net"
	"os"
	"path/filepath"
	runtimedebug "runtime/debug"
	"time"
	"unsafe"

	"github.com/blukai/netplay/internal/debug"
	"github.com/blukai/netplay/internal/gamerpc"
	"github.com/blukai/netplay/internal/peer"
	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/transport"
)

var (
	p       *peer.Peer
	lastErr error
	cancel  context.CancelFunc
)

// maybeDumpStack is not absolutely panic-free, it theoretically may also panic
func maybeDumpStack() {
	if r := recover(); r == nil {
		return
	}

	// game's root directory
	cwd, err := os.Getwd()
	debug.Assert(err == nil)

	filename := filepath.Join(
		cwd,
		"crashes",
		"netplay-"+time.Now().UTC().Format(time.RFC3339)+".txt",
	)
	stackTrace := runtimedebug.Stack()

	err = os.WriteFile(filename, stackTrace, 0644)
	debug.Assert(err == nil)

	panic("peerlib crashed")
}

// LastErr describes why the most recent call failed, or is NULL if it
// succeeded.
//
//export LastErr
func LastErr() *C.char {
	defer maybeDumpStack()

	if lastErr == nil {
		return nil
	}

	return C.CString(lastErr.Error())
}

// Connect binds a socket, starts the receive loop and blocks until the
// authority handed out a client id. It returns the id, or 0 with LastErr set.
//
//export Connect
func Connect(address *C.char) int32 {
	defer maybeDumpStack()

	debug.Assert(p == nil)
	lastErr = nil

	authorityAddr, err := net.ResolveUDPAddr("udp4", C.GoString(address))
	if err != nil {
		lastErr = err
		return 0
	}

	loop, err := transport.NewLoop(transport.Config{
		Address: "0.0.0.0:0",
		Remote:  authorityAddr.String(),
	}, nil)
	if err != nil {
		lastErr = err
		return 0
	}

	rpcs, err := gamerpc.NewRegistry(nil)
	if err != nil {
		lastErr = err
		return 0
	}

	peerInstance := peer.New(loop, peer.Config{
		Authority: authorityAddr,
		RPC:       rpcs,
	}, nil)

	ctx, cancelFunc := context.WithCancel(context.Background())
	go loop.Run(ctx, peerInstance)

	id, err := peerInstance.Connect(ctx)
	if err != nil {
		lastErr = err
		cancelFunc()
		return 0
	}

	p = peerInstance
	cancel = cancelFunc
	return id
}

//export Disconnect
func Disconnect() {
	defer maybeDumpStack()

	if cancel != nil {
		cancel()
	}
	p = nil
	cancel = nil
	lastErr = nil
}

// AddEntity creates an entity of the given character kind and returns its
// object id, or 0 with LastErr set.
//
//export AddEntity
func AddEntity(kind int32) int32 {
	defer maybeDumpStack()

	debug.Assert(p != nil)
	lastErr = nil

	s, err := p.AddEntity(context.Background(), protocol.EntityState{
		Character: protocol.CharacterKind(kind),
	})
	if err != nil {
		lastErr = err
		return 0
	}

	return s.ObjectID
}

// SendMotion reports whether the update was queued; on false LastErr says
// why.
//
//export SendMotion
func SendMotion(objectID int32, x, y, vx, vy float32, anim int32, facingRight bool) bool {
	defer maybeDumpStack()

	debug.Assert(p != nil)
	lastErr = nil

	err := p.SendMotion(objectID, protocol.Motion{
		X:           x,
		Y:           y,
		VX:          vx,
		VY:          vy,
		Anim:        protocol.AnimationState(anim),
		FacingRight: facingRight,
	})
	if err != nil {
		lastErr = err
		return false
	}
	return true
}

//export RequestSync
func RequestSync() int32 {
	defer maybeDumpStack()

	debug.Assert(p != nil)
	lastErr = nil

	n, err := p.RequestSync(context.Background())
	if err != nil {
		lastErr = err
		return 0
	}
	return int32(n)
}

// Entity is the c layout of one replicated entity.
type Entity struct {
	ObjectID    int32
	OwnerID     int32
	Kind        int32
	Anim        int32
	X, Y        float32
	VX, VY      float32
	FacingRight bool
}

type CIter struct {
	len      int
	pos      int
	itemsPtr unsafe.Pointer
}

//export IterLen
func IterLen(iterPtr unsafe.Pointer) int {
	defer maybeDumpStack()

	iter := (*CIter)(iterPtr)
	return iter.len
}

//export IterHasNext
func IterHasNext(iterPtr unsafe.Pointer) bool {
	defer maybeDumpStack()

	iter := (*CIter)(iterPtr)
	return iter.len > iter.pos
}

//export IterFree
func IterFree(iterPtr unsafe.Pointer) {
	defer maybeDumpStack()

	C.free((*CIter)(iterPtr).itemsPtr)
	C.free(iterPtr)
}

//export GetNextEntityInIter
func GetNextEntityInIter(iterPtr unsafe.Pointer) unsafe.Pointer {
	defer maybeDumpStack()

	debug.Assert(iterPtr != nil)

	iter := (*CIter)(iterPtr)
	if iter.len > iter.pos {
		itemSize := unsafe.Sizeof(Entity{})
		itemPtr := unsafe.Add(iter.itemsPtr, iter.pos*int(itemSize))

		iter.pos += 1

		return itemPtr
	}

	return nil
}

// GetEntityIter copies the replica into c memory. The caller owns the
// iterator and must release it with IterFree.
//
//export GetEntityIter
func GetEntityIter() unsafe.Pointer {
	defer maybeDumpStack()

	debug.Assert(p != nil)

	players := p.Replica().Snapshot()

	// returning non-owned data across the c boundary means malloc'ing it
	itemSize := unsafe.Sizeof(Entity{})

	itemsPtr := C.malloc(C.size_t(len(players) * int(itemSize)))
	i := 0
	for _, s := range players {
		itemPtr := unsafe.Add(itemsPtr, i*int(itemSize))
		*(*Entity)(itemPtr) = Entity{
			ObjectID:    s.ObjectID,
			OwnerID:     s.OwnerID,
			Kind:        int32(s.Character),
			Anim:        int32(s.Anim),
			X:           s.Position.X,
			Y:           s.Position.Y,
			VX:          s.Velocity.X,
			VY:          s.Velocity.Y,
			FacingRight: s.FacingRight,
		}
		i += 1
	}

	iterPtr := C.malloc(C.size_t(unsafe.Sizeof(CIter{})))
	*(*CIter)(iterPtr) = CIter{
		itemsPtr: itemsPtr,
		len:      len(players),
		pos:      0,
	}
	return iterPtr
}

func main() {}
