/*
Package session manages estimation sessions: identifier allocation, start
and resume entry points, per-session serialization of concurrent calls,
and checkpoint history for audit.
*/
package session
