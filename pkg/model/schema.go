package model

// schema is the fixed set of persisted entities, declared once in
// dependency order. Callers get a copy so the registry cannot be mutated.
var schema = []interface{}{
	&Profile{},
	&Permission{},
	&ProfilePermission{},
	&Division{},
	&Service{},
	&User{},
	&Dossier{},
	&Situation{},
	&Instruction{},
	&DossierInstruction{},
	&Notification{},
}

func Schema() []interface{} {
	out := make([]interface{}, len(schema))
	copy(out, schema)
	return out
}
