// Package discovery advertises and locates servers on the local
// network via mDNS/DNS-SD.
//
// A server registers the service type "_networktables._tcp" with TXT
// records describing which protocol ports it offers. Clients browse
// the same type and pick a server, usually the first one matching the
// expected instance name.
package discovery
