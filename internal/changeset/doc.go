// Package changeset reads commit descriptions from files.
//
// A changeset names a committer and context and lists the records to
// insert, update, add, and delete:
//
//	committer: "alice"
//	context:   "plant-7"
//	comment:   "replace feed pump"
//	insert: [{
//		oid: "pump/2"
//		fields: {name: "Feed pump", flow: 12.5, owner: {"$ref": "team/ops"}}
//	}]
//	update: [{oid: "pump/1", version: 3, fields: {name: "Spare pump"}}]
//	delete: ["valve/9"]
//
// CUE (.cue), YAML (.yaml, .yml) and JSON (.json) files are accepted. Field
// values follow record.ValueFromAny: integers become Int, numbers with a
// fraction or exponent become Float, and {"$ref": oid} becomes a Ref.
package changeset
