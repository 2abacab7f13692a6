// Package security escalates repeated suspicious activity into IP blocks.
//
// Manager keeps a per-IP activity log and a blocklist behind one mutex.
// When an IP accumulates more records than the configured threshold it is
// blocked and a single alert is dispatched for that crossing. Blocks are
// permanent unless Config.BlockDuration is set.
//
// InspectRequest combines the blocklist with the threat detector so HTTP
// middleware can reject a request in one call.
package security
