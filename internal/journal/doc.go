// Package journal records field-level operations on a document and derives
// views from them.
//
// # Overview
//
// A [Log] is an append-only sequence of [Op] values. Each op is one of Init
// (value loaded from storage), Set (explicit mutation) or Delete (explicit
// removal). The log is never rewritten: [Compact] derives a new slice holding
// the last op per field, and [Render] turns it into a [View].
//
// # Views
//
// A view filters the compacted ops by kind. With Init excluded, the view is
// exactly what changed since the document was loaded, which is the patch a
// store writes back. Deleted fields stay in the mapping with the [Absent]
// marker so the view reports that a deletion happened.
package journal
