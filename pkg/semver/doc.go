// SPDX-License-Identifier: MPL-2.0

// Package semver parses semantic versions and requirement expressions and
// selects the best candidate for a requirement.
//
// Requirements are normalized into a single half-open interval so that two
// requirements can be intersected exactly:
//
//	^1.2.3  >=1.2.3 <2.0.0
//	^0.2.3  >=0.2.3 <0.3.0
//	^0.0.3  >=0.0.3 <0.1.0
//	~1.2.3  >=1.2.3 <1.3.0
//	=1.2.3  exactly 1.2.3 (a bare "1.2.3" is the same)
//	>=1.2.3 open upper bound
//	*       any version
//
// Clauses may be combined with spaces or commas (">=1.0.0, <1.5.0"), which
// intersects them.
package semver
