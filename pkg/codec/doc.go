/*
Package codec implements the canonical byte encodings of the storage core.

Three encodings live here, and all three are part of the persisted schema:

  - Tuple encoding: parameter lookup tuples and replica-identity values are
    encoded as tagged, length-prefixed primitives. Byte equality of two
    encodings implies logical equality of the tuples, which is what makes
    the encoded bytes usable as index keys.
  - Op checksums: a 32-bit fingerprint of an op's client-visible fields,
    stable across replays. Range checksums are modular sums of these.
  - Subkeys: stable per-source-row UUIDs carried on bucket ops.

Changing any of these formats invalidates persisted data and requires a
schema version bump.
*/
package codec
