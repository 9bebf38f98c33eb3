package protocol

// field keys
const (
	FieldGoal     = "goal"
	FieldID       = "id"
	FieldSession  = "session"
	FieldPlayer   = "player"
	FieldPlayers  = "players"
	FieldObjectID = "object_id"
	FieldMotion   = "motion_data"
	FieldRPC      = "rpc_data"
	// FieldRequest is a peer chosen nonce that ties an add_player retry to
	// the entity the first attempt already created.
	FieldRequest = "request"
)

// goals, requests first and then what comes back
const (
	GoalSync            = "sync"
	GoalGetSyncPlayers  = "get_sync_players"
	GoalAddPlayer       = "add_player"
	GoalObjectPosUpdate = "object_pos_update"
	GoalRPCCall         = "rpc_call"

	GoalConfirmConnect  = "confirm connect"
	GoalRetSyncPlayers  = "ret_sync_players"
	GoalRetPlayerObjID  = "ret_player_obj_id"
	GoalMotionBroadcast = "motion_update_broadcast"
)

func newGoal(target int32, goal string) *Envelope {
	return NewEnvelope(target).Set(FieldGoal, Text(goal))
}

func NewSync() *Envelope {
	return newGoal(TargetAuthority, GoalSync)
}

func NewConfirmConnect(target int32, id int32, session string) *Envelope {
	return newGoal(target, GoalConfirmConnect).
		Set(FieldID, Int(id)).
		Set(FieldSession, Text(session))
}

func NewGetSyncPlayers() *Envelope {
	return newGoal(TargetAuthority, GoalGetSyncPlayers)
}

func NewRetSyncPlayers(target int32, players map[int32]EntityState) *Envelope {
	return newGoal(target, GoalRetSyncPlayers).
		Set(FieldPlayers, EntityMap(players))
}

// NewAddPlayer is both the creation request a peer sends and the push the
// authority relays to everyone else once the entity has an id.
func NewAddPlayer(target int32, player EntityState) *Envelope {
	return newGoal(target, GoalAddPlayer).
		Set(FieldPlayer, EntitySnapshot(player))
}

func NewRetPlayerObjID(target int32, id int32) *Envelope {
	return newGoal(target, GoalRetPlayerObjID).
		Set(FieldID, Int(id))
}

func NewObjectPosUpdate(objectID int32, motion Motion) *Envelope {
	return newGoal(TargetAuthority, GoalObjectPosUpdate).
		Set(FieldObjectID, Int(objectID)).
		Set(FieldMotion, motion)
}

func NewMotionBroadcast(target int32, objectID int32, motion Motion) *Envelope {
	return newGoal(target, GoalMotionBroadcast).
		Set(FieldObjectID, Int(objectID)).
		Set(FieldMotion, motion)
}

func NewRPCCall(target int32, call RPCCall) *Envelope {
	return newGoal(target, GoalRPCCall).
		Set(FieldRPC, call)
}
