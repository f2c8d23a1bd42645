/*
Package session implements session access control and checkpoint persistence.

A Manager guarantees that at most one run owns a session at a time. Contended
sessions fail fast with domain.ErrSessionBusy instead of queueing, locally via
an in-process mutex and across replicas via an optional distributed locker.
*/
package session
