package bus

// Event topic names for micro-program interactions, grounded on
// contracts.py.
const (
	// TaskRequest payload: {ID, Name, Args, Kwargs}
	TaskRequest = "task.request"
	// TaskProgress payload: {ID, Pct, Msg}
	TaskProgress = "task.progress"
	// TaskResult payload: {ID, OK, Result, Error}
	TaskResult = "task.result"
	// ProgramSpawn payload: {ID, Name}
	ProgramSpawn = "program.spawn"
	// ProgramExit payload: {ID, Name, OK}
	ProgramExit = "program.exit"
	// ProgramHeartbeat payload: {ID, Name}
	ProgramHeartbeat = "program.heartbeat"
	// ProgramLog payload: {ID, Name, Level, Msg}
	ProgramLog = "program.log"
)

// TaskRequestPayload is the payload shape published on TaskRequest.
type TaskRequestPayload struct {
	ID     string
	Name   string
	Args   []any
	Kwargs map[string]any
}

// TaskProgressPayload is the payload shape published on TaskProgress.
type TaskProgressPayload struct {
	ID  string
	Pct float64
	Msg string
}

// TaskResultPayload is the payload shape published on TaskResult.
type TaskResultPayload struct {
	ID     string
	OK     bool
	Result any
	Error  string
}

// ProgramSpawnPayload is the payload shape published on ProgramSpawn.
type ProgramSpawnPayload struct {
	ID   string
	Name string
}

// ProgramExitPayload is the payload shape published on ProgramExit.
type ProgramExitPayload struct {
	ID   string
	Name string
	OK   bool
}

// ProgramHeartbeatPayload is the payload shape published on ProgramHeartbeat.
type ProgramHeartbeatPayload struct {
	ID   string
	Name string
}

// ProgramLogPayload is the payload shape published on ProgramLog.
type ProgramLogPayload struct {
	ID    string
	Name  string
	Level string
	Msg   string
}
