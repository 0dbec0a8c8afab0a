/*
Package brokeradmin documents the brokeradmin module.

This module is CLI-first and ships the brokeradmin command:

	go install github.com/nuetzliches/brokeradmin/cmd/brokeradmin@latest

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package brokeradmin
