// Package home reads and drives the home-automation nodes of a Freebox:
// node discovery, endpoint reads and writes, the alarm and the shutters.
//
// Every call goes through a Requester, normally a *freeboxos.Executor, so
// session handling and gateway error recovery stay out of this package.
//
// Endpoint URLs have the form {base}/home/endpoints/{node_id}/{endpoint_id}.
// Reads of device state use NoRetry: a stale or missing value is preferable
// to blocking the call queue. Discovery uses AutoRetry.
package home
