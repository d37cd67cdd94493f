package raftstore

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/lockstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/memstore"
	"github.com/ValentinKolb/dLock/lib/lockstore/raftstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// LockStateMachine replicates the lock tables with Dragonboat RAFT.
// The tables live in a memstore.Engine, which serializes writes and lets
// lookups run concurrently.
type LockStateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    *memstore.Engine
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to
// create a new state machine for a node host.
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return NewLockStateMachine(shardID, replicaID)
	}
}

// NewLockStateMachine creates a state machine with empty tables.
func NewLockStateMachine(shardID, replicaID uint64) *LockStateMachine {
	return &LockStateMachine{
		replicaID: replicaID,
		shardID:   shardID,
		engine:    memstore.NewEngine(),
	}
}

// Lookup handles read-only queries.
func (fsm *LockStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, lockstore.NewError(lockstore.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	var result interface{}
	err := fsm.engine.View(func(t *memstore.Tables) error {
		switch q.Type {
		case internal.QueryTGetNamespace:
			id, ok := t.GetNamespace(q.Name)
			result = internal.NamespaceResult{ID: id, Ok: ok}
		case internal.QueryTGetResource:
			result = t.GetResource(q.NamespaceID, q.Name)
		case internal.QueryTGetLock:
			result = t.GetLock(q.Shared, q.Exclusive)
		case internal.QueryTGetLocksByShared:
			result = t.GetLocksByShared(q.IDs)
		case internal.QueryTStats:
			ns, res, locks := t.Stats()
			result = internal.Stats{Namespaces: ns, Resources: res, Locks: locks}
		default:
			return lockstore.NewError(lockstore.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
		}
		return nil
	})
	return result, err
}

// Update applies committed commands. Each entry is applied atomically; a failing
// entry leaves the tables untouched and reports its RetCode in the result.
//
// Result.Value holds the RetCode. On success Result.Data holds the encoded
// return value of the command, otherwise the error message.
func (fsm *LockStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = failure(lockstore.RetCInvalidOperation, "empty command ignored")
			continue
		}
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = failure(lockstore.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err))
			continue
		}
		entries[idx].Result = fsm.apply(cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *LockStateMachine) apply(cmd internal.Command) sm.Result {
	var data []byte
	err := fsm.engine.Apply(func(t *memstore.Tables) error {
		switch cmd.Type {
		case internal.CommandTResolveNamespace:
			data = encodeInt(t.ResolveNamespace(cmd.Name))
		case internal.CommandTCreateResource:
			r, err := t.CreateResource(cmd.NamespaceID, cmd.Name)
			if err != nil {
				return err
			}
			data = lockstore.EncodeResource(r)
		case internal.CommandTCreateLock:
			l, err := t.CreateLock(lockstore.ResourceID(cmd.Shared), lockstore.ResourceID(cmd.Exclusive),
				cmd.Token, time.UnixMilli(cmd.Start), time.UnixMilli(cmd.Expiry))
			if err != nil {
				return err
			}
			data = lockstore.EncodeLock(l)
		case internal.CommandTUpdateLock:
			key := lockstore.LockKey{Shared: lockstore.ResourceID(cmd.Shared), Exclusive: lockstore.ResourceID(cmd.Exclusive)}
			l, err := t.UpdateLock(key, cmd.Version, cmd.Token, time.UnixMilli(cmd.Start), time.UnixMilli(cmd.Expiry))
			if err != nil {
				return err
			}
			data = lockstore.EncodeLock(l)
		case internal.CommandTUpdateLocks:
			n := t.UpdateLocks(lockstore.ResourceID(cmd.Exclusive), cmd.OldToken, cmd.Token,
				time.UnixMilli(cmd.Start), time.UnixMilli(cmd.Expiry))
			data = encodeInt(int64(n))
		default:
			return lockstore.NewError(lockstore.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
		}
		return nil
	})
	if err != nil {
		return failure(lockstore.CodeOf(err), err.Error())
	}
	return sm.Result{Value: uint64(lockstore.RetCSuccess), Data: data}
}

func failure(code lockstore.RetCode, msg string) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(msg)}
}

func encodeInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// PrepareSnapshot is not used, Save holds the engine's read lock while writing.
func (fsm *LockStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes the tables to the writer.
func (fsm *LockStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.engine.Save(writer)
}

// RecoverFromSnapshot replaces the tables with the snapshot content.
func (fsm *LockStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.engine.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *LockStateMachine) Close() error {
	return nil
}
