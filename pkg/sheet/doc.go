// Package sheet turns uploaded workbooks into engine work units.
//
// Read parses every sheet into a header row and records whose cells are
// normalized to JSON-safe scalars: integral numbers become int64, other
// numbers float64, booleans bool, and blank, error or non-finite cells are
// absent. Date-formatted cells and configured date columns are written as
// "2006-01-02T15:04:05".
//
// Build maps the parsed sheets onto work units using one of three layouts:
//
//   - rows: one unit per record of the instance sheet
//   - sheets: one unit per sheet, from its first record
//   - stages: record i of the instance sheet and of every stage sheet feed
//     the instance and the ordered stages of unit i
package sheet
