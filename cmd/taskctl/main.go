package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"taskflow/pkg/config"
	"taskflow/pkg/tasksdk"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

const usage = `usage:
  taskctl process --subject <name> --item <item> --qty <n> --price <amount> [--category <code>] [--metric <x>] [--key <idempotency-key>]
  taskctl enroll --student <A9999> --name <name> [--dept <dept>] [--credits <n>] --course <course_id>
  taskctl subjects|records|students|courses list
  taskctl course create --id <course_id> --title <title> [--dept <dept>] --credits <n>
  taskctl normalize <text>
  taskctl validate <student_id>
  taskctl policy rate <category> | policy tuition <credits>

env: TASKFLOW_URL (default http://localhost:8000), POLICY_BASE_URL (default http://localhost:8001)`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	c := tasksdk.New(
		config.EnvString("TASKFLOW_URL", "http://localhost:8000"),
		config.EnvString("POLICY_BASE_URL", "http://localhost:8001"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "process":
		err = runProcess(ctx, c, args)
	case "enroll":
		err = runEnroll(ctx, c, args)
	case "subjects", "records", "students", "courses":
		err = runList(ctx, c, os.Args[1], args)
	case "course":
		err = runCourse(ctx, c, args)
	case "normalize":
		err = runNormalize(ctx, c, args)
	case "validate":
		err = runValidate(ctx, c, args)
	case "policy":
		err = runPolicy(ctx, c, args)
	default:
		err = usageError("unknown command " + os.Args[1])
	}
	if err != nil {
		color.Red("✗ %v", err)
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError string

func (u usageError) Error() string { return string(u) }

func runProcess(ctx context.Context, c *tasksdk.Client, args []string) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	subject := fs.String("subject", "", "subject name")
	item := fs.String("item", "", "item name")
	qty := fs.Int("qty", 0, "quantity")
	price := fs.String("price", "0", "unit price")
	category := fs.String("category", "", "category code")
	metric := fs.String("metric", "0", "auxiliary metric")
	key := fs.String("key", "", "idempotency key")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*subject) == "" {
		return usageError("--subject is required")
	}
	unitPrice, err := decimal.NewFromString(*price)
	if err != nil {
		return usageError("--price: " + err.Error())
	}
	aux, err := decimal.NewFromString(*metric)
	if err != nil {
		return usageError("--metric: " + err.Error())
	}

	sum, err := c.Process(ctx, tasksdk.ProcessInput{
		SubjectName: *subject,
		Item:        *item,
		Quantity:    *qty,
		UnitPrice:   unitPrice,
		Category:    *category,
		AuxMetric:   aux,
	}, *key)
	if sum != nil {
		printSummary(sum.Success, sum.State, sum.Message, sum)
	}
	return err
}

func runEnroll(ctx context.Context, c *tasksdk.Client, args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	student := fs.String("student", "", "student id (A9999)")
	name := fs.String("name", "", "student name")
	dept := fs.String("dept", "", "department")
	credits := fs.Int("credits", 0, "initial credits")
	course := fs.String("course", "", "course id")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *student == "" || *course == "" {
		return usageError("--student and --course are required")
	}
	in := tasksdk.EnrollInput{StudentID: *student, Name: *name, InitCredits: *credits, CourseID: *course}
	if *dept != "" {
		in.DeptName = dept
	}
	sum, err := c.Enroll(ctx, in)
	if sum != nil {
		printSummary(sum.Success, sum.State, sum.Message, sum)
	}
	return err
}

func runList(ctx context.Context, c *tasksdk.Client, kind string, args []string) error {
	if len(args) != 1 || args[0] != "list" {
		return usageError(kind + " list")
	}
	var (
		out any
		err error
	)
	switch kind {
	case "subjects":
		out, err = c.ListSubjects(ctx)
	case "records":
		out, err = c.ListRecords(ctx)
	case "students":
		out, err = c.ListStudents(ctx)
	case "courses":
		out, err = c.ListCourses(ctx)
	}
	if err != nil {
		return err
	}
	color.Cyan("%s", kind)
	printJSON(out)
	return nil
}

func runCourse(ctx context.Context, c *tasksdk.Client, args []string) error {
	if len(args) < 1 || args[0] != "create" {
		return usageError("course create")
	}
	fs := flag.NewFlagSet("course create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "course id")
	title := fs.String("title", "", "course title")
	dept := fs.String("dept", "", "department")
	credits := fs.Int("credits", 0, "credit units")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError(err.Error())
	}
	in := tasksdk.Course{CourseID: *id, Title: *title, Credits: *credits}
	if *dept != "" {
		in.DeptName = dept
	}
	out, err := c.CreateCourse(ctx, in)
	if err != nil {
		return err
	}
	color.Green("✓ course %s created", out.CourseID)
	printJSON(out)
	return nil
}

func runNormalize(ctx context.Context, c *tasksdk.Client, args []string) error {
	if len(args) == 0 {
		return usageError("normalize <text>")
	}
	out, err := c.Normalize(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runValidate(ctx context.Context, c *tasksdk.Client, args []string) error {
	if len(args) != 1 {
		return usageError("validate <student_id>")
	}
	ok, err := c.ValidateStudentID(ctx, args[0])
	if err != nil {
		return err
	}
	if ok {
		color.Green("✓ %s is valid", args[0])
	} else {
		color.Yellow("%s is not a valid student id", args[0])
	}
	return nil
}

func runPolicy(ctx context.Context, c *tasksdk.Client, args []string) error {
	if len(args) != 2 {
		return usageError("policy rate <category> | policy tuition <credits>")
	}
	switch args[0] {
	case "rate":
		rate, err := c.Rate(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", strings.ToUpper(strings.TrimSpace(args[1])), rate)
	case "tuition":
		var n int
		if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
			return usageError("credits must be an integer")
		}
		fee, err := c.Tuition(ctx, n)
		if err != nil {
			return err
		}
		fmt.Printf("%d credits: %s\n", n, fee.StringFixed(2))
	default:
		return usageError("unknown policy query " + args[0])
	}
	return nil
}

func printSummary(success bool, state, message string, v any) {
	if success {
		color.Green("✓ %s %s", state, message)
	} else {
		color.Red("✗ %s %s", state, message)
	}
	printJSON(v)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	color.White("%s", b)
}
