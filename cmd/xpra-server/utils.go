package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
)

func getCommandLineExecutable() string {
	return os.Args[0]
}

// FatalErrorHandler prints msg and exits with code, mirroring cobra's own
// RunE error path but letting callers route through a single place.
func FatalErrorHandler(cmd *cobra.Command, msg string, code int) {
	if len(msg) > 0 {
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		cmd.Print(msg)
	}
	os.Exit(code)
}

// generateEnvHelpText walks cfg's struct fields and renders the
// envconfig/default tags as help text appended to the serve
// command's long description.
func generateEnvHelpText(cfg interface{}, prefix string) string {
	var b strings.Builder

	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldType := field.Type
		if fieldType.Kind() == reflect.Struct {
			b.WriteString(fmt.Sprintf("\n%s - %s\n\n", prefix, field.Name))
			b.WriteString(generateEnvHelpText(reflect.New(fieldType).Interface(), prefix+" "))
			continue
		}
		envVar := field.Tag.Get("envconfig")
		defaultValue := field.Tag.Get("default")
		if envVar == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("%s%s (default: %q)\n", prefix, envVar, defaultValue))
	}
	return b.String()
}
