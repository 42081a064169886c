// Package audit records entity change trails and handled HTTP
// requests.
//
// Change trails ride a two-phase unit of work: the business
// transaction commits first, then the trails commit in a second,
// independent transaction. A failed business commit leaves no trail; a
// failed trail write is logged and counted but never fails the
// request. Request records are written after the response with the
// same failure posture.
package audit
