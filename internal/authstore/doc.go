// Package authstore persists the app authorization of the Freebox bridge.
//
// Only two values survive a restart: the app token and its track id. They
// are written once the user has accepted the bridge on the box and read at
// start-up to skip the pairing step. Two backends are provided: a JSON file
// (the historical freebox-auth.json format) and a single-row SQLite table.
package authstore
