// Package client talks to a sectiond network on behalf of a data owner.
//
// A client learns the network from a few contacts, then sends each request
// to the elders of the section closest to the data, signed with its own key.
// Elders that hold an older or newer view of the network bounce the request
// with their section's SAP and a proof chain from the genesis key; the client
// checks the chain, updates its knowledge and sends the request again. The
// answer returned is the one a majority of the elders agreed on.
package client
