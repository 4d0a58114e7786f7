package store

// ModelState holds one serialized per-user learning model, such as the
// completion predictor. Payload is an opaque JSON document owned by the
// model; Version increments on every save.
type ModelState struct {
	UserID    string
	ModelName string
	Payload   string
	Version   int
	UpdatedTs int64
}

type FindModelState struct {
	UserID    string
	ModelName string
}

type UpsertModelState struct {
	UserID    string
	ModelName string
	Payload   string
}

// BanditState holds the serialized per-user weight tuner arms.
type BanditState struct {
	UserID     string
	Payload    string
	TotalPulls int64
	UpdatedTs  int64
}

type FindBanditState struct {
	UserID string
}

type UpsertBanditState struct {
	UserID     string
	Payload    string
	TotalPulls int64
}
