package main

import (
	"bufio"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"storyhub/config"

	"github.com/go-sql-driver/mysql"
)

// 子表在前，保证外键顺序
var tables = []string{"reaction", "friendship", "comment", "post", "story", "user"}

func main() {
	yes := flag.Bool("yes", false, "跳过确认")
	flag.Parse()

	cfg := config.LoadConfig().Database
	if cfg.Driver != "" && cfg.Driver != "mysql" {
		log.Fatalf("reset_db only supports mysql, got driver %q", cfg.Driver)
	}

	// Build DSN
	dsn := (&mysql.Config{
		User:                 cfg.Username,
		Passwd:               cfg.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DBName:               cfg.Database,
		Params:               map[string]string{"charset": cfg.Charset},
		ParseTime:            true,
		AllowNativePasswords: true,
	}).FormatDSN()

	// Connect DB
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Database connection test failed: %v", err)
	}

	fmt.Println("Database connected successfully")
	fmt.Printf("Database: %s\n", cfg.Database)

	// Confirm
	if !*yes {
		fmt.Printf("\nWARNING: This operation will CLEAR ALL DATA in tables %v!\n", tables)
		fmt.Print("Type 'YES' to confirm: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "YES" {
			fmt.Println("Operation cancelled")
			return
		}
	}

	// Disable FK checks to avoid constraint issues
	_, _ = db.Exec("SET FOREIGN_KEY_CHECKS=0")
	defer func() { _, _ = db.Exec("SET FOREIGN_KEY_CHECKS=1") }()

	failed := 0
	for _, table := range tables {
		fmt.Printf("Truncating table %s... ", table)
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)); err != nil {
			failed++
			fmt.Printf("Failed: %v\n", err)
		} else {
			fmt.Println("Success")
		}
	}

	if failed > 0 {
		fmt.Printf("\nDatabase reset finished with %d failures\n", failed)
		os.Exit(1)
	}
	fmt.Println("\nDatabase reset completed!")
	fmt.Println("All table data cleared, auto-increment IDs reset to 1")
}
