package orientation

// Reference is the display-reference correction: once set, Apply maps the
// pose captured at reset time to the identity quaternion. It never touches
// filter or decoder state, so resetting again or clearing is always safe.
//
// Reference is owned by the ingestion goroutine and is not safe for
// concurrent mutation; cross-goroutine reset requests go through the ingest
// service's control channel.
type Reference struct {
	ref Quaternion
	set bool
}

// Set stores q as the new reference orientation.
func (r *Reference) Set(q Quaternion) {
	r.ref = q
	r.set = true
}

// Clear removes the reference; Apply becomes a no-op.
func (r *Reference) Clear() {
	r.ref = Quaternion{}
	r.set = false
}

// IsSet reports whether a reference is active.
func (r *Reference) IsSet() bool {
	return r.set
}

// Apply returns conj(ref) ⊗ q when a reference is set, else q unchanged.
// The conjugate is the inverse because the reference is unit norm.
func (r *Reference) Apply(q Quaternion) Quaternion {
	if !r.set {
		return q
	}
	return r.ref.Conjugate().Mul(q)
}
